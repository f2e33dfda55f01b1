// Package intake turns story manifests into queued stories.
//
// Manifests are YAML documents naming the title, target language and source
// text (inline or via text_file). They arrive three ways: `storyreel add`, the
// inbox directory watched with fsnotify, and an optional Redis list consumed
// with BRPOP. Every path ends in queue.Store.NewStory; the daemon is woken
// through the OnQueued callback.
package intake
