package constant

const (
	AssetRefreshQueueName  = "asset_refresh_queue"
	AssetRefreshQueueGroup = "asset_refresh_group"

	AssetRefreshStreamName           = "asset_refresh"
	AssetRefreshStreamSubjectAll     = "asset_refresh.*"
	AssetRefreshStreamSubjectRequest = "asset_refresh.request"

	AssetRefreshTimeoutHandler = "refresh_asset"
)
