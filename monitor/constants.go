package monitor

// Label keys. Exported records prefix these with "label.".
const (
	LabelKeyComponent   = "component"
	LabelKeyPluginID    = "plugin_id"
	LabelKeyPipelineID  = "pipeline_id"
	LabelKeyQueueType   = "queue_type"
	LabelKeyExactlyOnce = "exactly_once"
	LabelKeyScope       = "scope"
	LabelKeyRegion      = "region"
	LabelKeyProject     = "project"
	LabelKeyLogstore    = "logstore"
)

// Generic in/out metric keys shared by every pipeline component
const (
	MetricInEventsTotal        = "in_events_total"
	MetricInEventGroupsTotal   = "in_event_groups_total"
	MetricInSizeBytes          = "in_size_bytes"
	MetricOutEventsTotal       = "out_events_total"
	MetricOutEventGroupsTotal  = "out_event_groups_total"
	MetricOutSizeBytes         = "out_size_bytes"
	MetricDiscardedEventsTotal = "discarded_events_total"
	MetricOutFailedEventsTotal = "out_failed_events_total"
)

// Queue metric keys
const (
	MetricQueueSize            = "queue_size"
	MetricQueueSizeBytes       = "queue_size_bytes"
	MetricQueueExtraBufferSize = "queue_extra_buffer_size"
	MetricQueueDiscardedTotal  = "queue_discarded_total"
)

// Flusher runner metric keys
const (
	MetricFlusherSendDoneTotal      = "flusher_send_done_total"
	MetricFlusherSuccessTotal       = "flusher_success_total"
	MetricFlusherNetworkErrorTotal  = "flusher_network_error_total"
	MetricFlusherServerErrorTotal   = "flusher_server_error_total"
	MetricFlusherUnauthErrorTotal   = "flusher_unauth_error_total"
	MetricFlusherParamsErrorTotal   = "flusher_params_error_total"
	MetricFlusherOtherErrorTotal    = "flusher_other_error_total"
	MetricFlusherRetryTotal         = "flusher_retry_total"
	MetricFlusherSinkConcurrency    = "flusher_sink_concurrency"
	MetricFlusherRegisterState      = "flusher_register_state"
	MetricFlusherRegisterRetryTotal = "flusher_register_retry_total"
)

// Rate limiter metric keys
const (
	MetricLimiterRejectedTotal = "limiter_rejected_total"
)

// Serializer / compressor metric keys
const (
	MetricSerializeFailedEventsTotal = "serialize_failed_events_total"
	MetricCompressFallbackTotal      = "compress_fallback_total"
)
