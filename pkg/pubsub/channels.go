package pubsub

import (
	"fmt"
	"strconv"
	"strings"
)

// Channel naming conventions for result-set cache invalidation.
//
//	diffex:resultset:{id}:invalidate   one result-set was recomputed
//	diffex:resultset:all:invalidate    every cached entry is stale
const (
	ChannelResultSetInvalidate = "diffex:resultset:%s:invalidate"
	PatternResultSetInvalidate = "diffex:resultset:*:invalidate"

	allResultSets = "all"
)

// Event types carried on the invalidation channels.
const (
	EventResultSetUpdated = "result_set_updated"
	EventTopHitsUpdated   = "top_hits_updated"
	EventCacheFlushed     = "cache_flushed"
)

// InvalidateChannel returns the channel name for a single result-set.
func InvalidateChannel(resultSetID int64) string {
	return fmt.Sprintf(ChannelResultSetInvalidate, strconv.FormatInt(resultSetID, 10))
}

// FlushChannel returns the channel used to invalidate every result-set.
func FlushChannel() string {
	return fmt.Sprintf(ChannelResultSetInvalidate, allResultSets)
}

// parseChannel splits an invalidation channel into its prefix, target and
// action: "diffex:resultset:42:invalidate" -> ("diffex", "42", "invalidate").
func parseChannel(channel string) (prefix, target, action string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "resultset" {
		return "", "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0], parts[2], parts[3], nil
}

// InvalidationPayload is attached to result-set events.
type InvalidationPayload struct {
	ResultSetID int64  `json:"result_set_id"`
	Reason      string `json:"reason,omitempty"` // "recomputed", "deleted", "manual"
	Origin      string `json:"origin,omitempty"` // instance that published the event
}
