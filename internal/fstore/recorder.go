package fstore

// Recorder receives operation outcomes for metrics. result is ErrorKind(err).
type Recorder interface {
	ObserveUpload(result string, size int64)
	ObserveDownload(result string)
	ObserveDelete(result string)
	ObserveRename(result string)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) ObserveUpload(string, int64) {}
func (NopRecorder) ObserveDownload(string)      {}
func (NopRecorder) ObserveDelete(string)        {}
func (NopRecorder) ObserveRename(string)        {}
