package main

import "time"

// GlobalFlags are persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	DataDir    string
	BinDir     string
	LogLevel   string
}

type RunFlags struct {
	MetricsListen string
	HistoryDSN    string
	Grace         time.Duration
}

type PathsFlags struct {
	Create bool
	JSON   bool
}

type HistoryFlags struct {
	DSN   string
	Limit int
}
