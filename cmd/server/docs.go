// Package main Inkwell Billing API
//
//	@title						Inkwell Billing API
//	@version					1.0
//	@description				Subscriptions, checkout, usage quotas and provider webhooks.
//
//	@host						localhost:8080
//	@BasePath					/api
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT for users, API key for connected platforms. Format: "Bearer {token}"
//
//	@tag.name					Subscription
//	@tag.description			Plan and subscription lifecycle
//
//	@tag.name					Payment
//	@tag.description			Stripe and PayPal checkout
//
//	@tag.name					Usage
//	@tag.description			Monthly usage ledger
//
//	@tag.name					Quota
//	@tag.description			Quota checks and gated consumption
//
//	@tag.name					Token Usage
//	@tag.description			Token usage reported by connected platforms
//
//	@tag.name					Notifications
//	@tag.description			In-app quota notifications
//
//	@tag.name					API Keys
//	@tag.description			Platform API keys
//
//	@tag.name					Webhooks
//	@tag.description			Payment provider callbacks
package main
