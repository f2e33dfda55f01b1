// Package language normalizes story language codes and locales.
//
// Codes arrive from manifests, the CLI, and LLM detection replies in many
// shapes ("EN", "eng", "english", "pt-br"). Everything is reduced to ISO 639-1
// bases for comparison and BCP 47 tags for locales, backed by x/text.
package language
