package constants

const (
	// IDRandomBytes is the amount of entropy in generated row IDs.
	IDRandomBytes = 12

	WSBroadcastBufferSize  = 256
	WSClientSendBufferSize = 64
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	// RefreshTokenHeader is the non-cookie fallback for clients that cannot
	// hold cookies.
	RefreshTokenHeader = "refresh_token"
)

// Upload progress event names, namespaced per use-site.
const (
	EventCategoryIconProgress = "category-icon-upload-progress"
	EventServiceIconProgress  = "service-icon-upload-progress"
	EventFileProgress         = "file-upload-progress"
)

// Object store folders.
const (
	FolderCategoryIcons = "category-icons"
	FolderServiceIcons  = "service-icons"
	FolderProjectFiles  = "project-files"
)
