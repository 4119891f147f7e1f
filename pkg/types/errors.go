package types

import (
	"errors"
	"net/http"
)

// Sentinel errors for model acquisition. Callers wrap them with context
// using fmt.Errorf("%w: ...") and match them with errors.Is.
var (
	// ErrNameCollision indicates a model with the requested name already exists
	// or is being acquired by another request.
	ErrNameCollision = errors.New("model already exists")

	// ErrInvalidName indicates the requested model name is not usable as a directory name.
	ErrInvalidName = errors.New("invalid model name")

	// ErrInvalidUpload indicates no archive bytes were supplied with an upload.
	ErrInvalidUpload = errors.New("invalid upload")

	// ErrFetch indicates the remote archive could not be retrieved.
	ErrFetch = errors.New("archive fetch failed")

	// ErrCorruptArchive indicates the archive is not a readable zip container.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrUnsafeEntry indicates an archive entry tried to escape the staging area.
	ErrUnsafeEntry = errors.New("unsafe archive entry")

	// ErrDisk indicates a filesystem write or rename failed.
	ErrDisk = errors.New("disk error")

	// ErrModelNotFound indicates the model does not exist in the archive store.
	ErrModelNotFound = errors.New("model not found")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrNameCollision, "name_collision"},
	{ErrInvalidName, "invalid_name"},
	{ErrInvalidUpload, "invalid_upload"},
	{ErrFetch, "fetch"},
	{ErrCorruptArchive, "corrupt_archive"},
	{ErrUnsafeEntry, "unsafe_entry"},
	{ErrDisk, "disk"},
	{ErrModelNotFound, "not_found"},
}

// ErrorKind returns a stable short label for err, suitable for metrics and records.
// A nil error is "success"; errors outside the taxonomy are "internal".
func ErrorKind(err error) string {
	if err == nil {
		return "success"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsClientError reports whether err was caused by the request rather than the server
func IsClientError(err error) bool {
	return errors.Is(err, ErrNameCollision) ||
		errors.Is(err, ErrInvalidName)
}

// HTTPStatus maps an acquisition error to the status code returned to clients
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrModelNotFound):
		return http.StatusNotFound
	case IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
