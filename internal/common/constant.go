package common

// FilePasscodeHeaderName carries the file-access passcode on requests that
// read locked files.
const FilePasscodeHeaderName = "X-File-Passcode"

// AuthorizationHeaderName carries the bearer access token.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the access token in the Authorization header.
const BearerPrefix = "Bearer "

// StorageLimitBytes is the per-user storage ceiling shown on the dashboard.
// Uploads beyond it are not rejected.
const StorageLimitBytes int64 = 15 * 1024 * 1024 * 1024

// RecentFilesLimit is the number of files returned by the recents listing.
const RecentFilesLimit = 20
