// Package pandu implements a Discord chat bot that routes user prompts to
// third-party AI providers (Groq, Pollinations, OpenRouter, HuggingFace).
//
// API credentials and model catalogs are managed at runtime through a
// Redis-backed pool: each provider keeps an ordered list of keys with
// active/standby/cooldown lifecycle state, rotated automatically when a
// provider rate-limits the key currently in use. Requests that fail on the
// configured provider walk a fallback ladder before an error is surfaced
// to the user.
package pandu
