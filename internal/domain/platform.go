package domain

import "strings"

// Platform identifies an external social-media platform
type Platform string

const (
	// PlatformTwitter is X / Twitter
	PlatformTwitter Platform = "twitter"

	// PlatformFacebook is a Facebook page
	PlatformFacebook Platform = "facebook"

	// PlatformInstagram is an Instagram professional account
	PlatformInstagram Platform = "instagram"

	// PlatformThreads is a Threads profile
	PlatformThreads Platform = "threads"

	// PlatformTikTok is a TikTok creator account
	PlatformTikTok Platform = "tiktok"

	// PlatformYouTube is a YouTube channel
	PlatformYouTube Platform = "youtube"
)

// ParsePlatform normalizes a platform name. Unknown names are returned as-is so callers
// can still report them back in a PlatformResult.
func ParsePlatform(name string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(name)))
}

// String returns the platform name
func (p Platform) String() string {
	return string(p)
}

// Protocol is the publish protocol an adapter drives internally
type Protocol string

const (
	// ProtocolSingleCall creates and publishes content in one request
	ProtocolSingleCall Protocol = "single_call"

	// ProtocolContainer creates a container, polls it, then publishes it
	ProtocolContainer Protocol = "container"

	// ProtocolChunkedUpload pushes a binary payload in byte ranges before finalizing
	ProtocolChunkedUpload Protocol = "chunked_upload"
)

// MediaMode describes what form of media input an adapter accepts
type MediaMode string

const (
	// MediaModeNone means the adapter publishes text only
	MediaModeNone MediaMode = "none"

	// MediaModeDirectURL passes the caller's media URL through unchanged
	MediaModeDirectURL MediaMode = "direct_url"

	// MediaModeProxiedURL rewrites media URLs through the proxy endpoint on our own domain
	MediaModeProxiedURL MediaMode = "proxied_url"

	// MediaModeBinary downloads media and hands the bytes to the adapter
	MediaModeBinary MediaMode = "binary"
)

// Capabilities describes what an adapter supports
type Capabilities struct {
	// Protocol is the publish protocol used by the adapter
	Protocol Protocol

	// MediaMode is the media input form the adapter requires
	MediaMode MediaMode

	// MaxMedia is the maximum number of media items per post (0 = text only)
	MaxMedia int

	// AllowedMedia lists the media kinds the adapter accepts
	AllowedMedia []MediaKind

	// RequiresMedia rejects text-only posts
	RequiresMedia bool

	// MaxTextLength is the maximum content length in characters (0 = unlimited)
	MaxTextLength int

	// SupportsThread indicates the adapter can publish an ordered multi-part thread
	SupportsThread bool

	// AsyncMediaProcessing indicates the platform keeps fetching/transcoding media after the
	// publish call returns, so source files must outlive the request
	AsyncMediaProcessing bool
}

// AcceptsMediaKind reports whether the adapter accepts the given media kind
func (c Capabilities) AcceptsMediaKind(kind MediaKind) bool {
	for _, k := range c.AllowedMedia {
		if k == kind {
			return true
		}
	}
	return false
}
