package mime

// builtinEntries 기본 확장자 테이블
var builtinEntries = []Entry{
	// audio
	{"aac", "audio/aac", Audio},
	{"ac3", "audio/ac3", Audio},
	{"aif", "audio/x-aiff", Audio},
	{"aiff", "audio/x-aiff", Audio},
	{"alac", "audio/alac", Audio},
	{"amr", "audio/amr", Audio},
	{"ape", "audio/x-ape", Audio},
	{"au", "audio/basic", Audio},
	{"dsf", "audio/x-dsf", Audio},
	{"flac", "audio/flac", Audio},
	{"m4a", "audio/mp4", Audio},
	{"m4b", "audio/mp4", Audio},
	{"mid", "audio/midi", Audio},
	{"midi", "audio/midi", Audio},
	{"mka", "audio/x-matroska", Audio},
	{"mp2", "audio/mpeg", Audio},
	{"mp3", "audio/mpeg", Audio},
	{"mpc", "audio/x-musepack", Audio},
	{"oga", "audio/ogg", Audio},
	{"ogg", "audio/ogg", Audio},
	{"opus", "audio/opus", Audio},
	{"ra", "audio/x-realaudio", Audio},
	{"spx", "audio/ogg", Audio},
	{"tta", "audio/x-tta", Audio},
	{"wav", "audio/wav", Audio},
	{"weba", "audio/webm", Audio},
	{"wma", "audio/x-ms-wma", Audio},
	{"wv", "audio/x-wavpack", Audio},

	// video
	{"3g2", "video/3gpp2", Video},
	{"3gp", "video/3gpp", Video},
	{"asf", "video/x-ms-asf", Video},
	{"avi", "video/x-msvideo", Video},
	{"divx", "video/divx", Video},
	{"dv", "video/x-dv", Video},
	{"f4v", "video/x-f4v", Video},
	{"flv", "video/x-flv", Video},
	{"h264", "video/h264", Video},
	{"h265", "video/h265", Video},
	{"m2ts", "video/mp2t", Video},
	{"m4v", "video/x-m4v", Video},
	{"mkv", "video/x-matroska", Video},
	{"mov", "video/quicktime", Video},
	{"mp4", "video/mp4", Video},
	{"mpeg", "video/mpeg", Video},
	{"mpg", "video/mpeg", Video},
	{"mts", "video/mp2t", Video},
	{"mxf", "application/mxf", Video},
	{"ogv", "video/ogg", Video},
	{"rm", "application/vnd.rn-realmedia", Video},
	{"rmvb", "application/vnd.rn-realmedia-vbr", Video},
	{"ts", "video/mp2t", Video},
	{"vob", "video/dvd", Video},
	{"webm", "video/webm", Video},
	{"wmv", "video/x-ms-wmv", Video},

	// image
	{"avif", "image/avif", Image},
	{"bmp", "image/bmp", Image},
	{"gif", "image/gif", Image},
	{"heic", "image/heic", Image},
	{"heif", "image/heif", Image},
	{"ico", "image/vnd.microsoft.icon", Image},
	{"jpeg", "image/jpeg", Image},
	{"jpg", "image/jpeg", Image},
	{"png", "image/png", Image},
	{"svg", "image/svg+xml", Image},
	{"tga", "image/x-tga", Image},
	{"tif", "image/tiff", Image},
	{"tiff", "image/tiff", Image},
	{"webp", "image/webp", Image},

	// application
	{"cue", "application/x-cue", Application},
	{"json", "application/json", Application},
	{"m3u", "application/vnd.apple.mpegurl", Application},
	{"m3u8", "application/vnd.apple.mpegurl", Application},
	{"mpd", "application/dash+xml", Application},
	{"pdf", "application/pdf", Application},
	{"pls", "application/pls+xml", Application},
	{"smil", "application/smil+xml", Application},
	{"srt", "application/x-subrip", Application},
	{"vtt", "text/vtt", Application},
	{"xspf", "application/xspf+xml", Application},
	{"zip", "application/zip", Application},
}
