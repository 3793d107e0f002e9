package cassette

import "errors"

var (
	ErrUnknownFormat      = errors.New("cassette: unknown format")
	ErrReadCassette       = errors.New("cassette: read file")
	ErrWriteCassette      = errors.New("cassette: write file")
	ErrEncodeCassette     = errors.New("cassette: encode")
	ErrDecodeCassette     = errors.New("cassette: decode")
	ErrUnsupportedVersion = errors.New("cassette: unsupported format version")
	ErrArchiveSave        = errors.New("cassette: save to archive")
	ErrArchiveRead        = errors.New("cassette: read from archive")
)
