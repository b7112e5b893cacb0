package pe

import "go.uber.org/zap"

type options struct {
	logger        *zap.Logger
	strictNames   bool
	maxSymbolName uint64
	maxModuleName uint64
}

func defaultOptions() options {
	return options{
		logger:        zap.NewNop(),
		maxSymbolName: MaxSymbolNameLength,
		maxModuleName: MaxModuleNameLength,
	}
}

// Option configures an Image.
type Option func(*options)

// WithLogger routes parse diagnostics to logger. Images log nothing by
// default.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStrictNames additionally rejects symbol and module names containing
// characters that do not occur in mangled symbols or DOS file names.
func WithStrictNames(strict bool) Option {
	return func(o *options) {
		o.strictNames = strict
	}
}

// WithNameLimits overrides the maximum accepted symbol and module name
// lengths. Zero keeps the default.
func WithNameLimits(symbol, module uint64) Option {
	return func(o *options) {
		if symbol != 0 {
			o.maxSymbolName = symbol
		}
		if module != 0 {
			o.maxModuleName = module
		}
	}
}
