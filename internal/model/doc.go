// Package model provides conversation.Generator implementations.
//
// OpenAI talks to any OpenAI-compatible chat completion endpoint (Groq by
// default). Echo answers locally and is meant for development without an
// API key.
package model
