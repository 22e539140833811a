package player

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/talefeed/talefeed/internal/models"
)

// GenerateStreamURL builds the adaptive manifest URL for a track:
//
//	base/{trackId}[/voice/{voice}]/master.m3u8?v={version}[&token={grant}]
//
// The version parameter is mandatory on every request so intermediary caches
// are defeated after content changes. The voice segment is present only for
// tts tracks with a resolved voice. The grant token, when supplied by an
// access check, lets the streaming endpoint authorize segment requests
// without a session cookie round trip.
func GenerateStreamURL(base, trackID string, trackType models.TrackType, voice string, contentVersion int64, grantToken string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(base, "/"))
	sb.WriteString("/")
	sb.WriteString(url.PathEscape(trackID))
	if trackType == models.TrackTypeTTS && voice != "" {
		sb.WriteString("/voice/")
		sb.WriteString(url.PathEscape(voice))
	}
	sb.WriteString("/master.m3u8")

	query := url.Values{}
	query.Set("v", fmt.Sprintf("%d", contentVersion))
	if grantToken != "" {
		query.Set("token", grantToken)
	}

	return sb.String() + "?" + query.Encode()
}
