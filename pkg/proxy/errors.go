package proxy

import "errors"

var (
	ErrGenerateCA       = errors.New("proxy: generate CA")
	ErrLoadCA           = errors.New("proxy: load CA")
	ErrSaveCA           = errors.New("proxy: save CA")
	ErrIssueCertificate = errors.New("proxy: issue certificate")
	ErrListen           = errors.New("proxy: listen")
	ErrServerClosed     = errors.New("proxy: server closed")
)
