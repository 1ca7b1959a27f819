package harvest_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
)

func TestClassifyFetch(t *testing.T) {
	t.Parallel()

	remote := &harvest.RemoteError{StatusCode: 422, Details: []harvest.RemoteErrorDetail{{Message: "invalid query"}}}
	page := makePage(1, 2, "c1", true, 100)

	tests := []struct {
		name string
		err  error
		want harvest.FetchKind
	}{
		{name: "ok", err: nil, want: harvest.FetchOK},
		{name: "remote", err: remote, want: harvest.FetchRemoteFailure},
		{name: "wrapped remote", err: fmt.Errorf("fetch: %w", remote), want: harvest.FetchRemoteFailure},
		{name: "transport", err: &harvest.TransportError{StatusCode: 503, Cause: errors.New("unavailable")}, want: harvest.FetchTransportFailure},
		{name: "unknown error", err: errors.New("boom"), want: harvest.FetchTransportFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := harvest.ClassifyFetch(page, tt.err)
			assert.Equal(t, tt.want, res.Kind)
			switch tt.want {
			case harvest.FetchOK:
				assert.Equal(t, page, res.Page)
			case harvest.FetchRemoteFailure:
				require.NotNil(t, res.Remote)
				assert.Equal(t, 422, res.Remote.StatusCode)
			case harvest.FetchTransportFailure:
				assert.Equal(t, tt.err, res.Cause)
			}
		})
	}
}

func TestClassifyFetchRejectsNextWithoutCursor(t *testing.T) {
	t.Parallel()

	res := harvest.ClassifyFetch(makePage(1, 2, "", true, 100), nil)
	assert.Equal(t, harvest.FetchTransportFailure, res.Kind)
	var transport *harvest.TransportError
	require.ErrorAs(t, res.Cause, &transport)
	assert.ErrorIs(t, res.Cause, harvest.ErrMissingCursor)

	last := makePage(1, 2, "", false, 100)
	assert.Equal(t, harvest.FetchOK, harvest.ClassifyFetch(last, nil).Kind)
}

func TestFetchKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", harvest.FetchOK.String())
	assert.Equal(t, "remote", harvest.FetchRemoteFailure.String())
	assert.Equal(t, "transport", harvest.FetchTransportFailure.String())
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	remote := &harvest.RemoteError{StatusCode: 200, Details: []harvest.RemoteErrorDetail{
		{Type: "NOT_FOUND", Message: "missing"},
		{Message: "second"},
	}}
	assert.Equal(t, "remote error (status 200): NOT_FOUND: missing; second", remote.Error())

	cause := errors.New("dial tcp: refused")
	transport := &harvest.TransportError{Cause: cause}
	assert.ErrorIs(t, transport, cause)
	assert.Equal(t, "transport error: dial tcp: refused", transport.Error())

	persist := &harvest.PersistenceError{Op: "commit", Cause: cause}
	assert.ErrorIs(t, persist, cause)
	assert.Equal(t, "persist commit: dial tcp: refused", persist.Error())
}
