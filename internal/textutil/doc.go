// Package textutil holds the small text helpers shared by acquisition,
// script generation and narration.
//
// Term vectors rank candidate articles against a query: text is lowercased,
// split on non-alphanumeric runs and tokens shorter than 3 characters are
// dropped. A Corpus built from the candidates supplies IDF weights so common
// words do not dominate the ranking.
package textutil
