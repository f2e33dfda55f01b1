// Package textutil provides small text helpers shared by pipeline steps:
// term-frequency fingerprints for echo detection, keyword extraction for
// fallback visual prompts, and slugs for archive and log file names.
//
// Tokenization is Unicode-aware. Text is lowercased, split on anything that is
// not a letter or digit, and tokens shorter than 3 runes are dropped.
package textutil
