package config

const (
	defaultDataDir              = "~/.local/share/toolbox"
	defaultLogDir               = "~/.local/share/toolbox/logs"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultFFmpegBinary         = "ffmpeg"
	defaultLoadTimeoutSeconds   = 60
	defaultMinFreeMiB           = 512
	defaultStaleEntryMinutes    = 60
	defaultMaxInputMiB          = 100
	defaultConversionFormat     = "mp3"
	defaultConversionQuality    = 2
	defaultImageMaxInputMiB     = 25
	defaultImageQuality         = 80
	defaultImageFormat          = "jpeg"
	defaultImageMaxDimension    = 4096
	defaultDownloadTTLMinutes   = 30
	defaultSweepIntervalSeconds = 60
	defaultRateLimitPerMinute   = 30
	defaultRateLimitBurst       = 5
	defaultTracingServiceName   = "toolboxd"
	defaultTracingSampleRatio   = 1.0
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// SupportedFormats lists the conversion targets accepted for
// conversion.default_format.
var SupportedFormats = []string{"mp3", "wav", "ogg", "m4a", "flac", "mp4", "webm", "gif"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
			WorkspaceDir: defaultWorkspaceDir(),
			APIBind:      defaultAPIBind,
		},
		Engine: Engine{
			FFmpegBinary:       defaultFFmpegBinary,
			LoadTimeoutSeconds: defaultLoadTimeoutSeconds,
			MinFreeMiB:         defaultMinFreeMiB,
			StaleEntryMinutes:  defaultStaleEntryMinutes,
		},
		Conversion: Conversion{
			MaxInputMiB:    defaultMaxInputMiB,
			DefaultFormat:  defaultConversionFormat,
			DefaultQuality: defaultConversionQuality,
		},
		Images: Images{
			MaxInputMiB:    defaultImageMaxInputMiB,
			DefaultQuality: defaultImageQuality,
			DefaultFormat:  defaultImageFormat,
			MaxDimension:   defaultImageMaxDimension,
		},
		Server: Server{
			CrossOriginIsolation: true,
			DownloadTTLMinutes:   defaultDownloadTTLMinutes,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
			RateLimitPerMinute:   defaultRateLimitPerMinute,
			RateLimitBurst:       defaultRateLimitBurst,
		},
		Tracing: Tracing{
			ServiceName: defaultTracingServiceName,
			SampleRatio: defaultTracingSampleRatio,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
