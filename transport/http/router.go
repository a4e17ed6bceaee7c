package http

import (
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/faceblade"

	mcpE "github.com/flarexio/faceblade/mcp"
)

func AddRouters(r *gin.Engine, endpoints faceblade.EndpointSet) {
	// RESTful API routes
	api := r.Group("/api/v1")
	{
		api.POST("/register", RegisterHandler(endpoints.Register))
		api.POST("/register/faces", RegisterHandler(endpoints.Register))
		api.GET("/faces", ListFacesHandler(endpoints.ListFaces))
		api.DELETE("/faces", DeleteFacesHandler(endpoints.DeleteFaces))
		api.POST("/check/face", CheckSingleHandler(endpoints.CheckSingle))
		api.POST("/check/faces", CheckMultiHandler(endpoints.CheckMulti))
	}

	admin := api.Group("/admin")
	{
		admin.GET("/faces", ListAllFacesHandler(endpoints.ListAllFaces))
		admin.DELETE("/faces/:face_id", PurgeFaceHandler(endpoints.PurgeFace))
	}
}

func AddStreamableRouters(r *gin.Engine, endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint) {
	mcp := r.Group("/mcp")
	{
		mcp.POST("/", MCPStreamableHandler(endpoints))
	}
}
