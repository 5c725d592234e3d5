// Package unpack recovers a single file from the nested archives of an
// Electron application's Debian package.
//
// # Pipeline
//
// A package is unpacked in four forward-only stages:
//
//  1. ar container: FindMember scans members in storage order for the
//     compressed data tarball (data.tar.xz by default)
//  2. decompression: Decompress decodes the member in memory (xz, lzma,
//     gzip or zstd, chosen from the member suffix)
//  3. tar stream: TarWalker.FindByBase stops at the first regular file whose
//     final path segment is the bundle name (app.asar by default)
//  4. asar bundle: OpenBundle parses the pickled JSON index and ReadFile
//     slices the target file out of the content region
//
// The extracted bytes must be valid UTF-8.
//
// # Errors
//
// Every failure is an *Error carrying the Stage it came from and a Kind:
// KindNotFound when the input is well formed but the target is absent,
// KindMalformed when a structure cannot be parsed, and KindDecode for codec
// and UTF-8 failures. Use errors.Is with ErrNotFound, ErrMalformed or
// ErrDecode to branch on the kind, or errors.As for the full value.
//
// # Usage
//
//	text, err := unpack.ExtractFromPackage(debBytes)
//	if errors.Is(err, unpack.ErrNotFound) {
//	    // valid package, artifact absent
//	}
//
// Nothing in this package touches the network or the filesystem, and an
// Extractor is safe for concurrent use.
package unpack
