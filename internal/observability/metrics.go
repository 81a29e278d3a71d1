package observability

const (
	MUsecaseRequests     MetricKey = "usecase_requests_total"
	MUsecaseDuration     MetricKey = "usecase_duration_seconds"
	MHTTPRequests        MetricKey = "http_requests_total"
	MHTTPRequestDuration MetricKey = "http_request_duration_seconds"
	MStockDeductions     MetricKey = "stock_deductions_total"
	MStockApplyAttempts  MetricKey = "stock_apply_attempts_total"
	MResolutionWarnings  MetricKey = "resolution_warnings_total"
	MEventDeliveries     MetricKey = "event_deliveries_total"
	MEventPublishFailed  MetricKey = "event_publish_failed_total"
)
