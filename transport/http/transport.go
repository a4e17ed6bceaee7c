package http

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/faceblade"
)

// MaxImageSize caps a single uploaded crop.
const MaxImageSize = 8 << 20

func abort(c *gin.Context, err error) {
	c.String(faceblade.StatusCode(err), err.Error())
	c.Error(err)
	c.Abort()
}

func badRequest(c *gin.Context, err error) {
	c.String(http.StatusBadRequest, err.Error())
	c.Error(err)
	c.Abort()
}

func isMultipart(c *gin.Context) bool {
	return c.ContentType() == gin.MIMEMultipartPOSTForm
}

// formImages reads every file uploaded under the "images" field.
func formImages(c *gin.Context) ([][]byte, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	files := form.File["images"]
	images := make([][]byte, len(files))
	for i, fh := range files {
		img, err := readImage(fh)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}

		images[i] = img
	}

	return images, nil
}

func readImage(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > MaxImageSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", fh.Filename, MaxImageSize)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// bindImages binds req from JSON or a multipart form; uploaded files replace
// the images of the JSON body.
func bindImages(c *gin.Context, req any) ([][]byte, error) {
	if err := c.ShouldBind(req); err != nil {
		return nil, err
	}

	if !isMultipart(c) {
		return nil, nil
	}

	return formImages(c)
}

func defaultGroup(groupID string) string {
	if groupID == "" {
		return faceblade.DefaultGroupID
	}

	return groupID
}

func RegisterHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req faceblade.RegisterRequest
		images, err := bindImages(c, &req)
		if err != nil {
			badRequest(c, err)
			return
		}

		if images != nil {
			req.Images = images
		}

		req.GroupID = defaultGroup(req.GroupID)

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			abort(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func CheckSingleHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req faceblade.CheckSingleRequest
		images, err := bindImages(c, &req)
		if err != nil {
			badRequest(c, err)
			return
		}

		if images != nil {
			req.Images = images
		}

		req.GroupID = defaultGroup(req.GroupID)

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			abort(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func CheckMultiHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req faceblade.CheckMultiRequest
		images, err := bindImages(c, &req)
		if err != nil {
			badRequest(c, err)
			return
		}

		if images != nil {
			req.Images = images
		}

		req.GroupID = defaultGroup(req.GroupID)

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			abort(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func ListFacesHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var scope faceblade.Scope
		if err := c.ShouldBindQuery(&scope); err != nil {
			badRequest(c, err)
			return
		}

		scope.GroupID = defaultGroup(scope.GroupID)

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, scope)
		if err != nil {
			abort(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func DeleteFacesHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req faceblade.DeleteFacesRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			badRequest(c, err)
			return
		}

		req.GroupID = defaultGroup(req.GroupID)

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			abort(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func ListAllFacesHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		resp, err := endpoint(ctx, nil)
		if err != nil {
			abort(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func PurgeFaceHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		faceID := c.Param("face_id")
		if faceID == "" {
			badRequest(c, errors.New("face id is required"))
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, faceID)
		if err != nil {
			abort(c, err)
			return
		}

		result, ok := resp.(faceblade.PurgeFaceResponse)
		if !ok {
			abort(c, errors.New("invalid response type"))
			return
		}

		if !result.Existed {
			abort(c, fmt.Errorf("%w: %s", faceblade.ErrFaceNotFound, faceID))
			return
		}

		c.JSON(http.StatusOK, &result)
	}
}
