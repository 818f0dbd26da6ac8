// Package archive wraps the vendor platform zip archives with regexp
// entry lookup and path-preserving extraction. Product and component
// definition XML documents live inside these archives next to their
// encrypted payload counterparts.
package archive
