// Package sorter rewrites a line-oriented text file in place as a sorted,
// deduplicated list using a bounded-memory external merge sort.
//
// Input is read in chunks of at most Config.MaxLines lines. Each chunk is
// sorted and spilled to a private temporary directory, then all chunks are
// merged with a k-way heap merge into a temporary file next to the target,
// which is renamed over the target only when everything else succeeded.
// Comment lines (starting with '#') and blank lines are not carried into the
// body; the header written at the top of every output is made of comments,
// so sorting an already sorted file reproduces it exactly.
package sorter
