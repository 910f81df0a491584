package capturecontroller

// Listener receives the outcome of every controller operation. The
// controller never calls a Listener while holding its own lock, so a
// Listener may call back into the controller.
type Listener interface {
	OnCreateCaptureEngineSucceeded(textureID int64)
	OnCreateCaptureEngineFailed(err *Error)

	OnStartPreviewSucceeded(size Size)
	OnStartPreviewFailed(err *Error)
	OnPausePreviewSucceeded()
	OnPausePreviewFailed(err *Error)
	OnResumePreviewSucceeded()
	OnResumePreviewFailed(err *Error)

	OnStartRecordSucceeded()
	OnStartRecordFailed(err *Error)
	OnStopRecordSucceeded(path string)
	OnStopRecordFailed(err *Error)

	OnTakePictureSucceeded(path string)
	OnTakePictureFailed(err *Error)

	// OnVideoRecordSucceeded reports the end of a timed recording, in
	// addition to OnStopRecordSucceeded.
	OnVideoRecordSucceeded(path string, durationMs int64)
	OnVideoRecordFailed(err *Error)

	// OnCaptureError reports an engine error not tied to a request.
	OnCaptureError(err *Error)
}
