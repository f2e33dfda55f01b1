// Package transcript turns timestamped story text into scenes.
//
// The engine runs in three phases:
//
//   - Parse reads "[HH:MM:SS] text" or "[MM:SS] text" lines into Segments.
//     Synthesize produces equivalent segments for plain prose by timing each
//     sentence at a narration rate.
//   - Merge groups consecutive segments into Scenes, using separate duration
//     targets for the early window (the hook) and the remainder.
//   - Distribute marks an evenly spread subset of scenes as image scenes and
//     numbers them contiguously.
//
// All phases are pure and deterministic: identical input yields identical scenes.
package transcript
