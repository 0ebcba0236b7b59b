// Package batch fetches many resources in parallel through a client.
//
// Upstream concurrency stays bounded by the client's own permit pool; the
// worker limit here only bounds how many goroutines wait on it. Failures do
// not stop the batch: every key ends up in exactly one of Values, Missing or
// Failed.
//
// Example usage:
//
//	resources := make([]client.Resource, 0, len(ids))
//	for _, id := range ids {
//		resources = append(resources, client.Resource{
//			Type: "MatchDetails",
//			Key:  id,
//			URL:  "https://europe.api.riotgames.com/lol/match/v5/matches/" + id,
//		})
//	}
//
//	result, err := batch.FetchResources[MatchDTO](ctx, c, resources, batch.DefaultConfig())
//	if err != nil {
//		// err joins every per-key failure; result still holds the rest
//	}
//
// Performance:
//   - Workers beyond the client's MaxConcurrency only queue for a permit
//   - Duplicate keys are fetched once
package batch
