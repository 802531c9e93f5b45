// Package codec provides block compression for on-disk storage structures.
// It defines a common interface and multiple implementations so the storage
// layer can trade CPU for disk footprint per table.
//
// Key Components:
//
//   - Codec: Core interface that all compression implementations must satisfy.
//
//   - rawCodecImpl: Identity implementation that stores blocks verbatim.
//     Zero CPU overhead, used as the default for hot tables.
//
//   - s2CodecImpl: Implementation backed by the S2 format (an extension of
//     Snappy), offering very fast compression with moderate ratios. The
//     recommended choice for log-structured runs that are rewritten often.
//
//   - zstdCodecImpl: Implementation backed by Zstandard, offering the best
//     compression ratios at a higher CPU cost. Suited to cold, tree-ordered
//     tables that are read far more than written.
//
// Thread Safety:
//
//	All codec implementations are safe for concurrent use across multiple
//	goroutines without additional synchronization.
//
// Usage:
//
//	Codecs are typically created once per table and reused:
//
//	  c, err := codec.New(codec.TypeS2)
//	  compressed, err := c.Encode(block)
//	  // ... persist compressed ...
//	  restored, err := c.Decode(compressed)
package codec
