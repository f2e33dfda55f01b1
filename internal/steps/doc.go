// Package steps implements the pipeline step handlers: language detection,
// translation, cultural adaptation, scene segmentation, visual prompt
// generation, image and narration fan-out, and packaging.
//
// Every handler satisfies stage.Handler and is driven by stageexec.Run. Each
// provider call goes through the backoff executor individually; handlers never
// retry themselves beyond that, except the length guard re-running a short
// transform.
package steps
