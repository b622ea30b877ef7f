// Package rag implements the optional retrieval injector. It embeds the
// caller's transcript with the OpenAI embeddings API, searches a Qdrant
// collection over its REST API, and formats the hits into a context string.
// Every failure degrades to "no context available"; nothing propagates to
// the relay.
package rag
