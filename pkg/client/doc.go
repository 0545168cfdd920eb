// Package client is a Go client for the alpinekube cluster API.
//
//	c, err := client.NewClient("127.0.0.1:7070")
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	node, err := c.RegisterNode(ctx, "worker-1", 4)
//	pod, err := c.SubmitPod(ctx, "job-1", 2, 30*time.Second)
//
// Errors are gRPC statuses; status.Code(err) distinguishes NotFound,
// AlreadyExists, ResourceExhausted (no capacity), Unavailable (runtime
// failure) and InvalidArgument.
package client
