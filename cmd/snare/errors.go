package main

import "errors"

// Logging errors
var (
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrOpenLogFile      = errors.New("open log file")
	ErrOpenEventsFile   = errors.New("open events file")
)

// Serve errors
var (
	ErrLoadCassette      = errors.New("load cassette")
	ErrInvalidNetConnect = errors.New("invalid net-connect policy")
	ErrStartProxy        = errors.New("start proxy")
	ErrOpenArchive       = errors.New("open archive")
)

// Record errors
var (
	ErrStartRecording      = errors.New("start recording")
	ErrParseCommand        = errors.New("parse command")
	ErrRunCommand          = errors.New("run command")
	ErrWriteOutput         = errors.New("write output")
	ErrWriteCACert         = errors.New("write CA certificate")
	ErrUnknownOutputFormat = errors.New("unknown output format")
	ErrAppendArchive       = errors.New("append to archive")
)
