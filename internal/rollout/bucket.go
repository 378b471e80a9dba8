package rollout

import "hash/fnv"

// Buckets is the number of traffic buckets. A conversation whose bucket is
// below a rollout's traffic percent is served the candidate.
const Buckets = 100

// Bucket maps a conversation to [0, Buckets) using FNV-1a 64 over the agent
// id followed by the conversation id. The result is stable across processes.
func Bucket(agentID, conversationID string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(agentID))
	_, _ = h.Write([]byte(conversationID))
	return int(h.Sum64() % Buckets)
}

// InCandidate reports whether bucket falls inside trafficPercent.
func InCandidate(bucket, trafficPercent int) bool {
	return bucket < trafficPercent
}
