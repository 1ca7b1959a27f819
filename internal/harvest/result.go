package harvest

import "errors"

// FetchKind enumerates the outcomes of one fetch call.
type FetchKind int

// The closed set of fetch outcomes the engine decides over.
const (
	FetchOK FetchKind = iota
	FetchRemoteFailure
	FetchTransportFailure
)

func (k FetchKind) String() string {
	switch k {
	case FetchOK:
		return "ok"
	case FetchRemoteFailure:
		return "remote"
	case FetchTransportFailure:
		return "transport"
	default:
		return "unknown"
	}
}

// FetchResult is the classified outcome of Fetcher.Fetch.
type FetchResult struct {
	Kind   FetchKind
	Page   Page
	Remote *RemoteError
	Cause  error
}

// ErrMissingCursor marks a page that reports more results without a cursor
// to reach them. Advancing from it would restart at the first page.
var ErrMissingCursor = errors.New("page has next without a cursor")

// ClassifyFetch turns a Fetch return pair into a FetchResult. Errors that are
// neither RemoteError nor TransportError are treated as transport failures,
// as is a page that has a next page but no cursor.
func ClassifyFetch(page Page, err error) FetchResult {
	if err == nil {
		if page.HasNext && page.NextCursor == "" {
			return FetchResult{Kind: FetchTransportFailure, Cause: &TransportError{Cause: ErrMissingCursor}}
		}
		return FetchResult{Kind: FetchOK, Page: page}
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return FetchResult{Kind: FetchRemoteFailure, Remote: remote, Cause: err}
	}
	return FetchResult{Kind: FetchTransportFailure, Cause: err}
}
