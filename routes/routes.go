package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"boardflow/authz"
	controller "boardflow/controllers"
	"boardflow/fanout"
	"boardflow/middleware"
	"boardflow/ordering"
	"boardflow/realtime"
	"boardflow/store"
)

// Deps is everything the routes need, built once in main and passed
// down; no ambient singletons beyond the DB handle.
type Deps struct {
	DB       *gorm.DB
	Store    store.Store
	Authz    *authz.Engine
	Ordering *ordering.Engine
	Fanout   *fanout.Engine
	Registry *realtime.Registry
}

func SetupRoutes(app *fiber.App, deps Deps) {
	requestLog := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	// Public auth endpoints (no authentication required)
	auth := app.Group("/auth", requestLog)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentUser)

	// Controllers with their respective loggers
	projectController := controller.NewProjectController(deps.DB, deps.Authz, deps.Fanout, log.New(os.Stdout, "PROJECT: ", log.LstdFlags))
	memberController := controller.NewMemberController(deps.DB, deps.Store, deps.Authz, deps.Fanout, log.New(os.Stdout, "MEMBER: ", log.LstdFlags))
	taskController := controller.NewTaskController(deps.DB, deps.Store, deps.Authz, deps.Ordering, deps.Fanout, log.New(os.Stdout, "TASK: ", log.LstdFlags))
	commentController := controller.NewCommentController(deps.DB, deps.Authz, deps.Fanout, log.New(os.Stdout, "COMMENT: ", log.LstdFlags))
	notificationController := controller.NewNotificationController(deps.DB, log.New(os.Stdout, "NOTIFY: ", log.LstdFlags))
	wsController := controller.NewBoardWSController(deps.Registry, log.New(os.Stdout, "WS: ", log.LstdFlags))

	// Live updates endpoint; the credential is verified at connect
	// time inside the registry, so the route itself is public.
	app.Get("/ws", wsController.Upgrade, websocket.New(wsController.Handle))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), requestLog)

	// Project routes
	projects := api.Group("/projects")
	projects.Post("/", projectController.CreateProject)
	projects.Get("/", projectController.ListProjects)
	projects.Get("/:project_id", projectController.GetProject)
	projects.Patch("/:project_id", projectController.UpdateProject)
	projects.Delete("/:project_id", projectController.DeleteProject)

	// Member routes
	members := projects.Group("/:project_id/members")
	members.Get("/", memberController.ListMembers)
	members.Put("/", memberController.UpsertMember)
	members.Delete("/:user_id", memberController.RemoveMember)

	// Task routes; reorder is registered before the param route so it
	// does not get swallowed by :task_id.
	tasks := projects.Group("/:project_id/tasks")
	tasks.Put("/reorder", taskController.ReorderTasks)
	tasks.Post("/", taskController.CreateTask)
	tasks.Get("/", taskController.ListTasks)
	tasks.Patch("/:task_id", taskController.UpdateTask)
	tasks.Delete("/:task_id", taskController.DeleteTask)

	// Comment routes with rate limited creation
	comments := projects.Group("/:project_id/comments")
	comments.Get("/", commentController.ListComments)
	comments.Post("/", middleware.CommentRateLimiter(), commentController.CreateComment)
	comments.Put("/:comment_id", commentController.UpdateComment)
	comments.Delete("/:comment_id", commentController.DeleteComment)

	// Notification routes
	notifications := api.Group("/notifications")
	notifications.Get("/", notificationController.ListNotifications)
	notifications.Get("/unread-count", notificationController.UnreadCount)
	notifications.Post("/read-all", notificationController.MarkAllRead)
	notifications.Post("/:notification_id/read", notificationController.MarkRead)
}
