// Package recording implements the recorder duty cycle. A Machine is driven
// by the host's periodic Tick: it opens a capture window when recording is
// permitted and the intermission has elapsed, pauses while permission is
// withdrawn, and finalizes the window when either the target duration of
// active audio or the pause budget is reached. Finalized windows are encoded
// as WAV and handed to an Uploader unless they are silent, too short, or the
// host lacks focus. Upload results and remote policy fetches complete on
// background goroutines and are applied on a later tick.
package recording
