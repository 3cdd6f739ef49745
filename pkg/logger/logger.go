package logger

// Info printf 스타일 정보 로그
func Info(format string, args ...interface{}) {
	zlog.Info().Msgf(format, args...)
}

// Warn printf 스타일 경고 로그
func Warn(format string, args ...interface{}) {
	zlog.Warn().Msgf(format, args...)
}

// Error printf 스타일 에러 로그
func Error(format string, args ...interface{}) {
	zlog.Error().Msgf(format, args...)
}

// Debug printf 스타일 디버그 로그
func Debug(format string, args ...interface{}) {
	zlog.Debug().Msgf(format, args...)
}
