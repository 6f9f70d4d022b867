package emit

import "errors"

var (
	// ErrMissingModule indicates a planned module has no compiled code
	ErrMissingModule = errors.New("module has no compiled output")
	// ErrUnknownChunk indicates a chunk name that is not part of the bundle
	ErrUnknownChunk = errors.New("unknown chunk")
	// ErrUnknownEncoding indicates an unsupported precompression encoding
	ErrUnknownEncoding = errors.New("unknown compression encoding")
	// ErrInvalidFilename indicates an output filename template that cannot produce unique names
	ErrInvalidFilename = errors.New("invalid filename template")
)
