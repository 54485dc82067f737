package transcription

// Request holds parameters for a transcription call.
type Request struct {
	// AudioURI references the input bytes in blob storage.
	AudioURI string `json:"audio_uri"`
	// Language is the expected language of the audio, or "auto".
	Language string `json:"language,omitempty"`
	// SpeakerLabels requests per-utterance speaker labels.
	SpeakerLabels bool `json:"speaker_labels,omitempty"`
	// PayloadBytes is the size of the input, used for routing.
	PayloadBytes int64 `json:"-"`
}

// Response holds the result of a transcription call.
type Response struct {
	// Text is the full transcription text.
	Text string `json:"text"`
	// Segments contains time-aligned transcript segments.
	Segments []Segment `json:"segments,omitempty"`
	// Utterances contains speaker-attributed runs of speech.
	Utterances []Utterance `json:"utterances,omitempty"`
	// DurationSeconds is the audio duration in seconds.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	// Language is the detected or specified language.
	Language string `json:"language,omitempty"`
}

// Segment represents a time-aligned portion of a transcript.
type Segment struct {
	// Start is the segment start time in seconds.
	Start float64 `json:"start"`
	// End is the segment end time in seconds.
	End float64 `json:"end"`
	// Text is the transcribed text for this segment.
	Text string `json:"text"`
}

// Utterance is a run of speech attributed to one speaker.
type Utterance struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}
