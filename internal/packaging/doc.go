// Package packaging assembles a finished story into a distributable zip
// archive.
//
// The archive always contains one entry per scene. Missing images are replaced
// by rendered placeholder cards and missing narration by a MISSING.txt marker,
// so one failed scene never blocks delivery of the rest.
package packaging
