package http

// Route patterns for the pipeline status surface.
const (
	routeRequests     = "/v1/requests"
	routeRequestByID  = "/v1/requests/{reqId}"
	routeRequestReset = "/v1/requests/{reqId}/reset"
	routeTicks        = "/v1/ticks"
	routeStats        = "/stats"
)

// Route names for mux URL building.
const (
	routeNameRequests     = "pipeline_requests"
	routeNameRequestByID  = "pipeline_request_by_id"
	routeNameRequestReset = "pipeline_request_reset"
	routeNameTicks        = "pipeline_ticks"
	routeNameStats        = "pipeline_stats"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)
