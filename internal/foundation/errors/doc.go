// Package errors provides the classified error primitives used across polydocs.
//
// A ClassifiedError carries a category (which subsystem failed), a severity and a
// retry strategy. Components build them with the fluent ErrorBuilder; the HTTP
// adapter turns them into webhook responses and the CLI adapter into exit codes.
//
// Example usage:
//
//	err := errors.WrapError(cause, errors.CategoryForge, "create pull request").
//		Retryable().
//		WithContext("repository", fullName).
//		Build()
package errors
