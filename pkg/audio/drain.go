package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Playback uses it to release a synthesizer that is still producing chunks
// after the player gave up.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
