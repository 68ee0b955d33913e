package allure

// ContentType is the MIME type of an attachment.
type ContentType string

const (
	ContentTypeText ContentType = "text/plain"
	ContentTypeXML  ContentType = "application/xml"
	ContentTypeHTML ContentType = "text/html"
	ContentTypeCSV  ContentType = "text/csv"
	ContentTypeTSV  ContentType = "text/tab-separated-values"
	ContentTypeCSS  ContentType = "text/css"
	ContentTypeURI  ContentType = "text/uri-list"
	ContentTypeSVG  ContentType = "image/svg+xml"
	ContentTypePNG  ContentType = "image/png"
	ContentTypeJPEG ContentType = "image/jpeg"
	ContentTypeJSON ContentType = "application/json"
	ContentTypeWEBM ContentType = "video/webm"
	ContentTypeMP4  ContentType = "video/mp4"
	ContentTypeZIP  ContentType = "application/zip"
)

var extensions = map[ContentType]string{
	ContentTypeText: "txt",
	ContentTypeXML:  "xml",
	ContentTypeHTML: "html",
	ContentTypeCSV:  "csv",
	ContentTypeTSV:  "tsv",
	ContentTypeCSS:  "css",
	ContentTypeURI:  "uri",
	ContentTypeSVG:  "svg",
	ContentTypePNG:  "png",
	ContentTypeJPEG: "jpg",
	ContentTypeJSON: "json",
	ContentTypeWEBM: "webm",
	ContentTypeMP4:  "mp4",
	ContentTypeZIP:  "zip",
}

// Extension returns the file extension used when storing content of this type.
// Unknown types are stored without an extension.
func (c ContentType) Extension() string {
	return extensions[c]
}
