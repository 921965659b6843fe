// Package dispatch hands (event, data) envelopes from producers to the background subscriber,
// either through staging files plus the cache or through kafka topics.
package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
	bizConsts "github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/consts"
)

const (
	// EnvelopeTTL bounds how long an undelivered envelope body stays in the cache.
	EnvelopeTTL = 3 * time.Minute
	// SeenTTL bounds the dedupe window of delivered envelope keys.
	SeenTTL = 10 * time.Minute

	stagingExt      = ".json"
	fileOnlySuffix  = "-fileonly"
	claimedExt      = ".claimed"
	tmpExt          = ".tmp"
	randomHexLength = 10
)

type Envelope struct {
	Event    string `json:"event"`
	Data     any    `json:"data"`
	FileOnly bool   `json:"file_only,omitempty"`
}

// pointer is what the staging file or the kafka message carries when the body lives in the cache.
type pointer struct {
	CacheKey string `json:"cache_key"`
}

// Received is an envelope as decoded by the subscriber; Data keeps raw json.
type Received struct {
	Key   string
	Event string
	Data  json.RawMessage
}

// Decode unmarshals the envelope data into dst.
func (r Received) Decode(dst any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("envelope %s has no data", r.Key)
	}
	return codec.Unmarshal(r.Data, dst)
}

// newStem returns "<sec>_<usec>-<10 hex>".
func newStem(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")[:randomHexLength]
	return fmt.Sprintf("%d_%06d-%s", now.Unix(), now.Nanosecond()/1000, hex)
}

func cacheKeyFor(stem string) string { return bizConsts.CACHE_PREFIX_BROADCAST + stem }

func stagingName(stem string, fileOnly bool) string {
	if fileOnly {
		return stem + fileOnlySuffix + stagingExt
	}
	return stem + stagingExt
}

// keyFromStagingName maps a staging file name back to the envelope key.
func keyFromStagingName(name string) string {
	stem := strings.TrimSuffix(name, stagingExt)
	stem = strings.TrimSuffix(stem, fileOnlySuffix)
	return cacheKeyFor(stem)
}

var topicUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// TopicFor names the kafka topic carrying pointers for event.
func TopicFor(prefix, event string) string {
	t := topicUnsafe.ReplaceAllString(event, "_")
	if prefix == "" {
		return t
	}
	return prefix + "." + t
}

func marshalEnvelope(env Envelope) ([]byte, error) {
	if env.Event == "" {
		return nil, fmt.Errorf("envelope without event")
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	env.Data = codec.Normalize(env.Data)
	return codec.Marshal(env)
}

// decodeBody accepts either a full envelope or a pointer.
func decodeBody(raw []byte) (env *Received, ptr *pointer, err error) {
	var probe struct {
		Event    string          `json:"event"`
		Data     json.RawMessage `json:"data"`
		CacheKey string          `json:"cache_key"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, err
	}
	if probe.Event == "" && probe.CacheKey != "" {
		return nil, &pointer{CacheKey: probe.CacheKey}, nil
	}
	if probe.Event == "" {
		return nil, nil, fmt.Errorf("envelope without event")
	}
	return &Received{Event: probe.Event, Data: probe.Data}, nil, nil
}
