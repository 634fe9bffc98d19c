// Package pipeline runs one chat request through every stage of the sales
// assistant and multiplexes the progress of all stages into one event
// stream.
//
// # Stages
//
// A request starts in GENERATING: prompt stages may rewrite the last user
// turn, then every model delta produces an "llm" event carrying the full
// text so far. Completed sentences are cut by the segmenter and handed to
// the TTS queue as they appear.
//
// With digital human enabled the request then moves through:
//   - AWAITING_AUDIO: wait for one WAV per sentence chunk ("tts" events)
//   - MERGING: concatenate the chunks into one WAV and delete them
//   - AWAITING_VIDEO: submit the render job and wait for its completion
//     marker ("dg" events)
//
// Every request ends with exactly one event whose end_flag is set and whose
// step is "all", either in DONE or FAILED.
//
// # Degradation
//
// A queue submission failure does not fail the request. The stage is
// reported in the terminal event's degraded list and the stages that depend
// on it are skipped. Merge format mismatches are handled the same way.
// Timeouts, model errors and prompt-stage denials fail the request.
package pipeline
