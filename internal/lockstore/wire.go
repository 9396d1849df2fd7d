package lockstore

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// entry is the stored form used by the bolt and memory backends.
type entry struct {
	Value     string     `json:"value,omitempty"`
	List      []string   `json:"list,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newEntry(value string, list []string, ttl time.Duration, now time.Time) entry {
	e := entry{Value: value, List: list}
	if ttl > 0 {
		exp := now.Add(ttl)
		e.ExpiresAt = &exp
	}
	return e
}

func (e entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

func marshalEntry(e entry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(raw []byte) (entry, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, fmt.Errorf("decode stored entry: %w", err)
	}
	return e, nil
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalList(raw []byte) ([]string, error) {
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode stored list: %w", err)
	}
	return values, nil
}

// ttlSeconds rounds a ttl up to whole seconds, the lease granularity of etcd.
func ttlSeconds(ttl time.Duration) int64 {
	s := int64(math.Ceil(ttl.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func joinKey(prefix, key string) string {
	prefix = strings.TrimRight(prefix, "/")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
