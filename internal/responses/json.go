package responses

import (
	"encoding/xml"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const (
	MIMEYAML = "application/yaml"

	defaultFormatKey = "responses.default_format"
)

type APIResponse struct {
	XMLName xml.Name `json:"-" xml:"response" yaml:"-"`
	Status  string   `json:"status" xml:"status" yaml:"status"`
	Message string   `json:"message,omitempty" xml:"message,omitempty" yaml:"message,omitempty"`
	Data    any      `json:"data,omitempty" xml:"data,omitempty" yaml:"data,omitempty"`
	Error   string   `json:"error,omitempty" xml:"error,omitempty" yaml:"error,omitempty"`
}

// DefaultFormat sets the format used when the client sends no usable
// Accept header: json, xml or yaml.
func DefaultFormat(format string) gin.HandlerFunc {
	format = strings.ToLower(format)
	return func(c *gin.Context) {
		c.Set(defaultFormatKey, format)
		c.Next()
	}
}

// Negotiate picks the response format from the Accept header.
func Negotiate(c *gin.Context) string {
	accept := c.GetHeader("Accept")
	if accept != "" && accept != "*/*" {
		switch c.NegotiateFormat(binding.MIMEJSON, binding.MIMEXML, binding.MIMEXML2, binding.MIMEYAML, MIMEYAML) {
		case binding.MIMEJSON:
			return "json"
		case binding.MIMEXML, binding.MIMEXML2:
			return "xml"
		case binding.MIMEYAML, MIMEYAML:
			return "yaml"
		}
	}
	return c.GetString(defaultFormatKey)
}

// Render writes v in the negotiated format.
func Render(c *gin.Context, statusCode int, v any) {
	switch Negotiate(c) {
	case "xml":
		c.XML(statusCode, v)
	case "yaml":
		c.YAML(statusCode, v)
	default:
		c.JSON(statusCode, v)
	}
}

func Success(c *gin.Context, statusCode int, data any, message string) {
	Render(c, statusCode, APIResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

func Fail(c *gin.Context, statusCode int, err error, message string) {
	resp := APIResponse{
		Status:  "error",
		Message: message,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	Render(c, statusCode, resp)
}

// Abort is Fail for middlewares: it also stops the handler chain.
func Abort(c *gin.Context, statusCode int, err error, message string) {
	Fail(c, statusCode, err, message)
	c.Abort()
}
