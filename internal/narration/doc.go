// Package narration turns a script into published audio.
//
// The synthesize_audio stage sends the script narration to ElevenLabs,
// publishes the mp3 through the public artifact store (the lip-sync provider
// must be able to fetch it) and, when enabled, writes an SRT subtitle track
// next to it. Subtitle timing is estimated from word counts because the
// synthesis API does not return alignments.
package narration
