package session

// Store holds the latest value per caller-chosen session id. Writes are last-write-wins;
// callers that need ordering for one id must serialize their own requests.
type Store[T any] interface {
	Get(id string) (T, bool)
	Set(id string, v T)
	Delete(id string)
	Len() int
}
